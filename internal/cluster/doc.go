// Package cluster models the control-plane view of a running store cluster.
//
// A Probe returns an immutable Snapshot per call: the member processes with
// their address, locality tags and roles, plus the cluster-wide recovery
// state. Snapshots are superseded by the next poll and never mutated.
//
// # Basic Usage
//
//	probe := cluster.NewCLIProbe(cluster.CLIProbeConfig{
//	    Binary:      "fdbcli",
//	    ClusterFile: "/etc/foundationdb/fdb.cluster",
//	})
//
//	snap, err := probe.Snapshot(ctx)
//	if errors.Is(err, cluster.ErrControlPlaneUnavailable) {
//	    log.Fatal(err)
//	}
//
//	sel, _ := cluster.ParseSelector("dcid=dc2")
//	for _, m := range snap.Select(sel) {
//	    fmt.Println(m.ID, m.Address)
//	}
//
// # Polling
//
// Probes have no side effects on the cluster and are safe to call at a
// fixed cadence of one to two seconds.
package cluster
