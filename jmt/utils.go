package smt

// ============================================
// Nibble 操作
// ============================================

// getNibbleAt 获取路径上第 position 个 Nibble (0-15)，偶数位取高 4 位
func getNibbleAt(path []byte, position int) byte {
	b := path[position/2]
	if position%2 == 0 {
		return b >> 4
	}
	return b & 0x0F
}

// countCommonNibblePrefix 两个路径从头开始连续相同的 Nibble 数量
func countCommonNibblePrefix(path1, path2 []byte) int {
	n := len(path1)
	if len(path2) < n {
		n = len(path2)
	}
	count := 0
	for i := 0; i < n*2; i++ {
		if getNibbleAt(path1, i) != getNibbleAt(path2, i) {
			break
		}
		count++
	}
	return count
}
