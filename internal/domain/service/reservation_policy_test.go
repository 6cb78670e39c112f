package service

import (
	"errors"
	"math"
	"testing"

	"github.com/vertextoedge/diskguard/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		free     uint64
		reserved uint64
		want     domain.Availability
	}{
		{"ample space", 1 << 30, 1 << 20, domain.Available},
		{"exactly at margin", 1 << 20, 1 << 20, domain.ReservedExceeded},
		{"one byte above margin", 1<<20 + 1, 1 << 20, domain.Available},
		{"below margin", 10, 1 << 20, domain.ReservedExceeded},
		{"zero free zero reserved", 0, 0, domain.ReservedExceeded},
		{"one free zero reserved", 1, 0, domain.Available},
		{"max values", math.MaxUint64, math.MaxUint64, domain.ReservedExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.free, tt.reserved); got != tt.want {
				t.Errorf("Classify(%d, %d) = %v, want %v", tt.free, tt.reserved, got, tt.want)
			}
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	pairs := [][2]uint64{{0, 0}, {5, 10}, {10, 5}, {1 << 30, 1 << 30}}
	for _, p := range pairs {
		first := Classify(p[0], p[1])
		for i := 0; i < 100; i++ {
			if got := Classify(p[0], p[1]); got != first {
				t.Fatalf("Classify(%d, %d) changed from %v to %v", p[0], p[1], first, got)
			}
		}
	}
}

func TestClassifyRequest(t *testing.T) {
	tests := []struct {
		name     string
		free     uint64
		needed   uint64
		reserved uint64
		want     domain.Availability
	}{
		{"segment fits above margin", 100 << 20, 1 << 20, 10_000_000, domain.Available},
		{"segment eats into margin", 10_000_001, 1 << 20, 10_000_000, domain.ReservedExceeded},
		{"nothing needed above margin", 10_000_001, 0, 10_000_000, domain.Available},
		{"need more than free", 10, 100, 0, domain.ReservedExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRequest(tt.free, tt.needed, tt.reserved); got != tt.want {
				t.Errorf("ClassifyRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReservationPolicy(t *testing.T) {
	dirs := []domain.DataDirectory{
		{Path: "/data/a", ReservedBytes: 100},
		{Path: "/data/b", ReservedBytes: 100},
		{Path: "/wal", ReservedBytes: 500, IsWAL: true},
	}
	p := NewReservationPolicy(dirs)

	if got := len(p.DataDirectories()); got != 2 {
		t.Errorf("DataDirectories() = %d, want 2", got)
	}
	wal, ok := p.WALDirectory()
	if !ok || wal.Path != "/wal" {
		t.Errorf("WALDirectory() = %v, %v", wal, ok)
	}

	// Mutating the input must not leak into the policy.
	dirs[0].ReservedBytes = 0
	d, _ := p.Directory("/data/a")
	if d.ReservedBytes != 100 {
		t.Errorf("ReservedBytes = %d, want 100", d.ReservedBytes)
	}

	if r, ok := p.ReservedFor("/wal"); !ok || r != 500 {
		t.Errorf("ReservedFor(/wal) = %d, %v, want 500, true", r, ok)
	}
	if _, ok := p.ReservedFor("/nope"); ok {
		t.Error("ReservedFor(/nope) ok = true, want false")
	}

	tests := []struct {
		name   string
		sample domain.DiskSpaceSample
		want   domain.Availability
	}{
		{"data dir above margin", domain.DiskSpaceSample{Path: "/data/a", FreeBytes: 101}, domain.Available},
		{"data dir at margin", domain.DiskSpaceSample{Path: "/data/a", FreeBytes: 100}, domain.ReservedExceeded},
		{"wal uses its own margin", domain.DiskSpaceSample{Path: "/wal", FreeBytes: 400}, domain.ReservedExceeded},
		{"failed probe", domain.DiskSpaceSample{Path: "/data/b", FreeBytes: 1 << 30, Err: errors.New("eio")}, domain.ReservedExceeded},
		{"unknown directory", domain.DiskSpaceSample{Path: "/nope", FreeBytes: 1 << 30}, domain.ReservedExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Evaluate(tt.sample); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}
