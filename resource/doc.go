// Package resource provides the host-side resource table shared with guest
// modules.
//
// Think of resources as file descriptors. A guest only ever sees an integer
// [ID]; the host keeps the real value (a file, a socket, an HTTP body) in a
// [Table] and looks it up again with a checked type assertion:
//
//	table := resource.NewTable()
//
//	id, _ := table.Add(file)
//
//	f, err := resource.Get[*hostfunc.File](table, id) // ok
//	s, err := resource.Get[*hostfunc.BodyStream](table, id) // BadResource
//
//	table.Close(id) // removes the entry and calls file.Close()
//
// # Capabilities
//
// Every resource implements [Resource]. Stream-like kinds additionally
// implement [Reader] or [ReturnReader], [Writer], [Shutdowner] or [FDHolder];
// the package helpers [Read], [Write] and [Shutdown] return a NotSupported
// [Error] for kinds that lack an operation.
//
// # Errors
//
// Failures are reported as [*Error] values carrying a class such as
// "BadResource" or "TypeError". Use [ClassOf] to recover the class from a
// wrapped error.
package resource
