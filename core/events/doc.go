// Package events defines the events other services publish on the event bus
// to steer live sessions.
//
// Every event is a JSON object carrying a type and the id of the session it
// targets:
//
//   - interrupt: stop the current response, heardText is what the listener
//     actually heard.
//   - new_prompt: inject a prompt as if the user said it (legacy publishers
//     send it as chat with a text field).
//   - change_persona: swap the persona instructions.
//   - tip: a tip was received; carries amount, currency, tipper and an
//     optional message and wallet address.
//
// Both sessionId and session_id are accepted, as are the legacy tip fields
// token, username and wallet_address.
package events
