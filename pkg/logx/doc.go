// Package logx is notifyd's structured logging on top of zerolog.
//
// Console output is human readable with a short caller, file output is JSON.
// Error lines can also be forwarded to an ErrorSink, which the app wires to
// threadless error notifications.
package logx
