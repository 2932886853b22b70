// Package failure defines the error kinds a mirror update run can end with
// and maps them to process exit codes. Each stage of the run tags its error
// with exactly one kind; callers select on the kind with errors.Is.
package failure
