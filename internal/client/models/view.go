package models

import (
	"time"

	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// PermissionView is a record with its status derived at render time.
type PermissionView struct {
	permission.Record
	Status        permission.Status `json:"status"`
	Remaining     uint64            `json:"remaining"`
	ExpiringSoon  bool              `json:"expiring_soon"`
	TimeLeft      time.Duration     `json:"time_left"`
	Pending       Intent            `json:"pending,omitempty"`
	LastConfirmed time.Time         `json:"last_confirmed"`
	// Role is "owner" or "spender" relative to the viewing principal.
	Role string `json:"role"`
}

func NewPermissionView(e SyncEntry, principal string, now time.Time) PermissionView {
	v := PermissionView{
		Record:        e.Record,
		Status:        e.Record.Status(now),
		Remaining:     e.Record.Remaining(),
		ExpiringSoon:  e.Record.ExpiringSoon(now),
		TimeLeft:      e.Record.TimeLeft(now),
		LastConfirmed: e.LastConfirmed,
		Role:          "spender",
	}
	if e.Pending != nil {
		v.Pending = e.Pending.Intent
	}
	if e.Record.Owner == permission.NormalizeAddress(principal) {
		v.Role = "owner"
	}
	return v
}

// Summary aggregates the permissions of one principal for the dashboard.
type Summary struct {
	Total        int                       `json:"total"`
	ByStatus     map[permission.Status]int `json:"by_status"`
	ExpiringSoon int                       `json:"expiring_soon"`
	Pending      int                       `json:"pending"`
	// Allowance and Spent cover active permissions granted by the
	// principal.
	Allowance uint64 `json:"allowance"`
	Spent     uint64 `json:"spent"`
}

func Summarize(views []PermissionView) Summary {
	s := Summary{ByStatus: make(map[permission.Status]int)}
	for _, v := range views {
		s.Total++
		s.ByStatus[v.Status]++
		if v.ExpiringSoon {
			s.ExpiringSoon++
		}
		if v.Pending != "" {
			s.Pending++
		}
		if v.Role == "owner" && v.Status == permission.StatusActive {
			s.Allowance += v.Amount
			s.Spent += v.Spent
		}
	}
	return s
}
