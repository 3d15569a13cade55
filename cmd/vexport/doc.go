// Command vexport exports a video through a list of presets, one at a time,
// and writes a CSV summary of the results.
//
// Subcommands:
//
//	export   run every configured preset against a source file
//	presets  list the built-in presets
//	probe    describe a media file
//	status   check binaries, directories and staging usage
//	staging  list or clean per-job staging directories
//	config   create or validate the configuration file
package main
