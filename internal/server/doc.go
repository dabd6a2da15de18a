// Package server は、カメラ操作とストリーミングのHTTP APIを提供します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラ名によるストリームの開始・終了とパラメータ変更のルーティング
//   - MJPEG (multipart/x-mixed-replace) とWebSocketによるフレーム配信
//   - ドメインエラーからHTTPステータスへの変換
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - ストリームの区切り文字列は "frame" 固定
//   - 存在しないカメラは404、状態の不整合は400、値の検証エラーは422、
//     デバイスを開けない場合は503を返す
//   - systemd配下では起動完了と停止開始を通知する
package server
