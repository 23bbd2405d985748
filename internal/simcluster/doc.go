// Package simcluster provides a simulated cluster for running fault episodes
// without a real deployment.
//
// A Cluster holds Members with an address, a locality and a set of roles.
// It answers status queries like a real control plane (it implements
// cluster.Probe) and resolves members of a locality to pausable handles
// (it implements locator.Locator), so the fault controller can drive it
// exactly like a local deployment.
//
// # Basic Usage
//
//	sim, err := simcluster.NewFromTopology(simcluster.DefaultTopology(), simcluster.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctrl := fault.NewController(sim, fault.NewPauseStrategy(sim), fault.Config{})
//
//	// commits against the in-memory store fail while the primary log is paused
//	client := memstore.New(db, memstore.Options{Gate: sim.Gate})
//
// # Recovery Model
//
// While any member is paused the cluster reports "accepting_commits" with two
// active generations and a lag that grows with the pause. After the last
// member resumes it reports "storage_recovered" until RecoveryDelay has
// passed, then "fully_recovered" with zero lag.
package simcluster
