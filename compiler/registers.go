package compiler

import (
	"fmt"

	"github.com/chazu/stencil/vm"
)

// ---------------------------------------------------------------------------
// Registers: compile-time register allocator
// ---------------------------------------------------------------------------

// Registers hands out the vm.PoolSize registers during code generation.
// The free list is a stack: Alloc pops its top and Free pushes onto it, so
// the most recently freed register is reused first. Initially the top is
// register 0.
type Registers struct {
	free  []vm.Register
	taken [vm.PoolSize]bool
}

// NewRegisters creates an allocator with every register free.
func NewRegisters() *Registers {
	r := &Registers{free: make([]vm.Register, 0, vm.PoolSize)}
	for i := vm.PoolSize - 1; i >= 0; i-- {
		r.free = append(r.free, vm.Register(i))
	}
	return r
}

// Alloc takes a free register. Running out means an expression was
// compiled that needs more registers than exist, which is a compiler bug.
func (r *Registers) Alloc() vm.Register {
	if len(r.free) == 0 {
		panic(fmt.Sprintf("compiler: register pool of %d exhausted", vm.PoolSize))
	}
	reg := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.taken[reg] = true
	return reg
}

// Free returns reg to the pool.
func (r *Registers) Free(reg vm.Register) {
	if !reg.Valid() || !r.taken[reg] {
		panic(fmt.Sprintf("compiler: free of unallocated register %s", reg))
	}
	r.taken[reg] = false
	r.free = append(r.free, reg)
}

// InUse returns the number of allocated registers.
func (r *Registers) InUse() int {
	return vm.PoolSize - len(r.free)
}
