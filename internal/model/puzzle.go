package model

// Challenge は外部パズルAPIから取得し、検証済みのパズルを表す。
// puzzleパッケージの検証を経由してのみ生成され、永続化されない。
type Challenge struct {
	ImageURL string
	Solution int
}
