package service

import "github.com/lsiswin/RecyclingApi-sub001/internal/domain"

// PickStaff 从候选客服中选出负载最低且未满员的一位。
// 负载相同时按 ID 排序取最小值，保证结果确定。
// capacity 为 0 的候选使用 defaultCapacity。
func PickStaff(candidates []domain.StaffLoad, defaultCapacity int) (string, bool) {
	best := -1
	for i, c := range candidates {
		if c.Active >= effectiveCapacity(c, defaultCapacity) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := candidates[best]
		if c.Active < b.Active || (c.Active == b.Active && c.StaffID < b.StaffID) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return candidates[best].StaffID, true
}

func effectiveCapacity(load domain.StaffLoad, defaultCapacity int) int {
	if load.Capacity > 0 {
		return load.Capacity
	}
	return defaultCapacity
}
