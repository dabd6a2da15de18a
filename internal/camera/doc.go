// Package camera USBカメラを名前付きリソースとして管理する
//
// # 責務
// - 起動時に列挙したカメラの一覧管理（実行中の追加・削除は行わない）
// - カメラごとのデバイスハンドルの排他的な所有
// - fps・解像度・JPEG品質の変更とデバイスへの適用
// - 目標フレームレートに合わせたフレーム送出（ペーシング）
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - カメラ名からデバイスを引き、ストリームを開始・終了したい
// - ストリーミング中にパラメータを変更したい
//
// # 仕様
// - Manager: カメラ名 → Camera の固定マップ
// - Camera: 状態は「キャプチャ中（ハンドルが開いている）」と「ストリーミング中（消費ループが動作中）」に分かれる
// - Stream: Next がフレームを1枚返すか、セッション終了で ErrStreamEnded を返す
// - 解像度変更はデバイスの開き直し（リセット）を伴い、失敗はエラーとして返す
// - デバイスの開閉・パラメータ適用・フレーム読み込みはカメラごとのロックで直列化される
//
// # バックエンド
//   - v4l2: blackjack/webcam によるV4L2キャプチャ（Linuxのみ）
//   - gocv: OpenCV の VideoCapture（ビルドタグ gocv）
//   - mock: 合成フレーム（ハードウェア無しでの動作確認用）
//
// # 前提要件
//   - v4l-utils: カメラの列挙に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//     Red Hat/Fedora: sudo dnf install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
