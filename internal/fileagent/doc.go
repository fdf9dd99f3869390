// Package fileagent finds new files in a directory. A DirectoryScanWork lists
// the directory, keeps files modified after its watermark, delivers them
// oldest first and then moves the watermark to the end of the scan.
package fileagent
