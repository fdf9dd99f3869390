// Package logx is the connector's structured logging, a thin layer over
// zerolog.
//
// Console lines are short and human readable, the optional file gets JSON,
// and the event sink republishes records at or above a minimum level, rate
// limited, so the history can keep warnings next to import results. Lines
// tagged with Endpoint are attributed to that endpoint there.
package logx
