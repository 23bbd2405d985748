// Package recovery はフォールト解除後のクラスタ収束待ちを提供する。
//
// Await はステータスプローブを一定間隔でポーリングし、リカバリ状態が
// fully_recovered かつラグがゼロになるまで待つ。待ち時間には上限を設定でき、
// 結果は Converged または TimedOut の型付きの値で返る。
//
// # 使用例
//
//	cfg := recovery.DefaultConfig()
//	cfg.Timeout = 5 * time.Minute
//
//	res, err := recovery.Await(ctx, probe, cfg, bus)
//	if errors.Is(err, recovery.ErrConvergenceTimeout) {
//	    log.Printf("still %s after %v", res.Last.Name, res.Elapsed)
//	}
//
// Timeout がゼロ以下の場合は ctx が終了するまで待ち続ける。
package recovery
