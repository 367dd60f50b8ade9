package domain

// Image is the loaded-image view of the instrumented process: its
// exported-symbol table, its flat class/method registry, and the
// dispatch slots hooks are installed into.
//
// Lookup methods never fail; absence is reported through the boolean
// and is a normal outcome (library or class simply not loaded).
type Image interface {
	// ExportAddr returns the address of an exported function.
	ExportAddr(name string) (Address, bool)

	// MethodAddr returns the address of a class method.
	MethodAddr(class, selector string) (Address, bool)

	// HasClass checks whether a class is present in the image.
	HasClass(name string) bool

	// EachMethod enumerates every method of every loaded class, in a
	// stable order. No inheritance is modeled; the registry is flat.
	EachMethod(fn func(class, selector string, addr Address))

	// Call dispatches a frame through the current callable at addr.
	Call(addr Address, frame Frame) error

	// Callable returns the current callable at addr.
	Callable(addr Address) (Func, bool)

	// Swap atomically replaces the callable at addr. No caller ever
	// observes a half-swapped function.
	Swap(addr Address, fn Func) error

	// Restore swaps fn back in and blocks until every call that
	// entered through the previous callable has left it, so the
	// previous callable is never released while still executing.
	Restore(addr Address, fn Func) error
}
