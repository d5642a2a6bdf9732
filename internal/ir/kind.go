package ir

import "strings"

// Well-known kv keys.
const (
	KeyNodeType  = "p"
	KeyNodeColor = "pc"

	// KeyExtOutNamePrefix + basename(output) renames that output when it is
	// exposed as a build result.
	KeyExtOutNamePrefix = "ext_out_name_for_"

	KeyDisableCache = "disable_cache"
)

// NodeKind is the decoded form of kv["p"]. The wire keeps the raw string.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindCompile
	KindLink
	KindArchive
	KindCopy
	KindProgram
	KindTest
	KindTestRun
	KindUnion
)

var kindTags = map[NodeKind]string{
	KindCompile: "CC",
	KindLink:    "LD",
	KindArchive: "AR",
	KindCopy:    "CP",
	KindProgram: "PR",
	KindTest:    "TS",
	KindTestRun: "TM",
	KindUnion:   "UN",
}

// ParseNodeKind maps a kv["p"] tag to a NodeKind.
func ParseNodeKind(tag string) NodeKind {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	for k, t := range kindTags {
		if t == tag {
			return k
		}
	}
	return KindUnknown
}

// Tag returns the wire tag of the kind, or "" for KindUnknown.
func (k NodeKind) Tag() string {
	return kindTags[k]
}

func (k NodeKind) String() string {
	if t, ok := kindTags[k]; ok {
		return t
	}
	return "unknown"
}

// IsTest reports whether the node belongs to the test-suite layer.
func (k NodeKind) IsTest() bool {
	return k == KindTest || k == KindTestRun
}
