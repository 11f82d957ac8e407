// Package qb is a fluent SQL query builder.
//
// A Builder accumulates a query on one table and either compiles it to
// parameterized SQL for an executor or evaluates it against in-memory
// tables:
//
//	cfg := qb.NewConfig(qb.WithExecutor(drv))
//	rows, err := qb.New("users", qb.WithConfig(cfg)).
//	    Where("active", "=", true).
//	    OrderByDesc("created_at").
//	    Limit(10).
//	    All(ctx)
//
// Writes are queued and run by Make:
//
//	res, err := qb.New("users").Where("id", "=", 7).Update(map[string]any{"name": "x"}).Make(ctx)
//
// Compiled statements use "?" placeholders; executors of the dialect/sql
// package rebind them for their dialect.
//
// Statements run in simulation mode while a simulation controller is
// active, either shared through WithSimulation or private to a builder
// through Simulate. Simulation never needs an executor.
package qb
