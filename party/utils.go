package party

import (
	"math/rand"
	"time"
)

// 乱数は配役カタログのシャッフルに使用
func createLocalRandGenerator() *rand.Rand {
	source := rand.NewSource(time.Now().UnixNano())
	return rand.New(source)
}
