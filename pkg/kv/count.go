package kv

import "strconv"

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatCount(n int64) string {
	return strconv.FormatInt(n, 10)
}
