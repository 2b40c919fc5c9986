// Package pairing implements cross-device login by QR pairing tokens.
//
// A logged-in device (usually the mobile app) issues a short-lived, single-use
// token bound to its identity. The waiting web page displays the token as a QR
// code and polls its status. When the mobile app redeems the token, exactly one
// web session is minted for that identity and handed to the poller.
//
// Every token state transition is a single compare-and-swap in the Store, so
// concurrent redemptions of the same token have exactly one winner.
package pairing
