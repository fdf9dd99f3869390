// Package connector binds configured import endpoints to directory scans.
//
// Each active endpoint owns one fileagent.DirectoryScanWork scheduled under
// "scan:<name>". Files found by a scan are handed to the importer, optionally
// filtered through a dedup index so a restart does not import the same file
// twice.
package connector
