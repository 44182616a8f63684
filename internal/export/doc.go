// Package export holds the types shared by the export engine: the task
// record that flows through parse, render and convert, the status code
// table, the tagged stage error, and the small collaborator interfaces the
// dispatchers depend on.
package export
