// Package importer turns files found by a directory scan into imports.
//
// A Dispatcher runs one engine task per delivered file. The task picks the
// first registered Processor responsible for the file's mime type, gives the
// import a fresh id and lets the processor report through a StatusListener.
// Every listener call is wrapped by a Boundary, the hook where a caller can
// open and close a transaction around the notification.
package importer
