package shardclient

import "strconv"

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
func itoa(v int) string     { return strconv.Itoa(v) }
