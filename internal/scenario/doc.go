// Package scenario は負荷とフォールト注入を組み合わせたシナリオ実行機能を提供する。
//
// シナリオエンジンは LoadGenerator、Reporter、FaultController を
// 連携させ、負荷をかけながらフォールトエピソードを1回実行する。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成
//
// # プリセットシナリオ
//
// - saturate: フォールトなしの飽和負荷
// - freeze-remote-dc: リモートDCの一時停止
// - partition-remote-dc: リモートDCのネットワーク分断
// - sim-quick: シミュレートしたクラスタでの短時間確認
// - sim-primary-freeze: シミュレートしたクラスタのプライマリDC停止
//
// # 使用例
//
//	config := scenario.SimQuickScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
