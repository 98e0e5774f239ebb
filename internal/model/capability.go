package model

import (
	"fmt"
)

// Capability is a named permission bit a secondary admin may hold. A primary
// admin implicitly holds all of them.
type Capability uint8

const (
	CapApplications Capability = iota
	CapTeachers
	CapStudents
	CapParents
	CapClasses
	CapCourses
	CapSubjects
	CapLessons
	CapExams
	CapResults
	CapAttendance
	CapMessages
	CapAnnouncements
	CapAdmins

	numCapabilities
)

var capabilityNames = [numCapabilities]string{
	"applications",
	"teachers",
	"students",
	"parents",
	"classes",
	"courses",
	"subjects",
	"lessons",
	"exams",
	"results",
	"attendance",
	"messages",
	"announcements",
	"admins",
}

func (c Capability) String() string {
	if c >= numCapabilities {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return capabilityNames[c]
}

// ParseCapability resolves a capability by its wire name.
func ParseCapability(name string) (Capability, error) {
	for i, n := range capabilityNames {
		if n == name {
			return Capability(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", name)
}

// CapabilitySet is a fixed-size bitset over all capabilities, stored as a
// single integer column on AdminPermission.
type CapabilitySet uint64

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s = s.With(c)
	}
	return s
}

// AllCapabilities returns the set with every capability bit on.
func AllCapabilities() CapabilitySet {
	return CapabilitySet(1<<numCapabilities) - 1
}

func (s CapabilitySet) Has(c Capability) bool {
	return s&(1<<c) != 0
}

func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | (1 << c)
}

func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ (1 << c)
}

// Names returns the wire names of the capabilities in the set.
func (s CapabilitySet) Names() []string {
	names := make([]string, 0, numCapabilities)
	for c := Capability(0); c < numCapabilities; c++ {
		if s.Has(c) {
			names = append(names, capabilityNames[c])
		}
	}
	return names
}

// CapabilitySetFromNames builds a set from wire names, rejecting unknown ones.
func CapabilitySetFromNames(names []string) (CapabilitySet, error) {
	var s CapabilitySet
	for _, name := range names {
		c, err := ParseCapability(name)
		if err != nil {
			return 0, err
		}
		s = s.With(c)
	}
	return s, nil
}
