// Package tank holds the tank registry: identity, controller address and
// telemetry poll interval of every supervised tank.
//
// The Registry is consulted by the connection supervisor at startup and on
// every add, update or delete. Renaming a tank moves its telemetry history
// and forward payload to the new ID in the same transaction.
//
// Usage:
//
//	registry := tank.NewRegistry(tank.NewSQLiteRepository(db.DB), 20)
//	if err := registry.Load(ctx); err != nil {
//	    return err
//	}
//	t, err := registry.Create(ctx, tank.Tank{ID: "T1", Address: "192.168.1.20"})
package tank
