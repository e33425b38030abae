/*
Package cli provides the helpers shared by the throttle commands.

Output Formatting:

Commands print results as text, JSON or CSV. Values implementing Tabular
render as an aligned table in text mode and as rows in CSV mode:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, status); err != nil {
		return err
	}

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(total)
	for i := range total {
		// send request
		progress.Update(i + 1)
	}
	progress.Finish()

Signal Handling:

SetupSignalHandler returns a context cancelled by the first SIGINT or
SIGTERM. A second signal exits the process immediately.

Exit Codes:

ExitCode maps command errors to process exit codes: 2 for configuration
errors, the code carried by an ExitError, and 1 for everything else.
*/
package cli
