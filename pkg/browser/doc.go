// Package browser pools headless browser-engine processes addressable by
// session id. Each session exposes a CDP websocket endpoint plus a
// high-entropy session token; remote callers reattach with Attach, which
// validates the token before handing out the endpoint.
//
// The engine launcher is an interface so the pool is testable without real
// browsers. The production launcher runs Chromium through playwright-go
// with a remote debugging port and reads the websocket endpoint from the
// engine's /json/version endpoint.
package browser
