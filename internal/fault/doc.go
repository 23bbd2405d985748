// Package fault injects and heals faults against a subset of cluster members.
//
// A Controller runs one fault window at a time through the states
// Idle, Injecting, Healing and Converging. Two strategies exist behind the
// Strategy interface:
//
//   - Pause freezes every local process of the selected members with SIGSTOP
//     and thaws them with SIGCONT.
//   - Partition installs bidirectional TCP drop rules between the selected
//     locality and every other member, tagged with a per-window comment.
//
// The strategy is resolved once from a Capabilities probe. Partition needs
// CAP_NET_ADMIN and a usable iptables binary; without them the controller
// falls back to Pause.
//
// # Episodes
//
//	ctrl := fault.NewController(probe, strategy, fault.Config{})
//	report, err := ctrl.RunEpisode(ctx, fault.EpisodePlan{
//	    Selector: sel,
//	    Duration: 30 * time.Second,
//	})
//	var perr *fault.PhaseError
//	if errors.As(err, &perr) {
//	    log.Fatalf("%s failed: %v", perr.Phase, perr.Err)
//	}
//
// Heal runs exactly once per window on every exit path, including
// cancellation of ctx during the wait and panics.
package fault
