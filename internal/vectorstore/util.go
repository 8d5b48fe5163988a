package vectorstore

import (
	"math"
	"time"
)

func sqrt(f float64) float64 {
	return math.Sqrt(f)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
