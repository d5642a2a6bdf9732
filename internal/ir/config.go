package ir

// Variant selects which flavour of a platform subgraph the configurator builds.
type Variant string

const (
	VariantTools Variant = "tools"
	VariantPIC   Variant = "pic"
	VariantNoPIC Variant = "nopic"
)

// BuildConfig is the top-level configuration of one graph assembly.
type BuildConfig struct {
	// HostPlatform names the platform of the tools graph. Empty disables it.
	HostPlatform string `pkl:"hostPlatform" validate:"omitempty,platform"`

	// Targets lists the target platforms to configure.
	Targets []string `pkl:"targets" validate:"required,min=1,unique,dive,platform"`

	// Configurator is the argv of the external configurator process.
	Configurator []string `pkl:"configurator" validate:"required_without=ReplayFrom,dive,required"`

	// ReplayFrom replays subgraphs captured in a store instead of running
	// the configurator.
	ReplayFrom string `pkl:"replayFrom"`

	// CaptureTo stores every configured subgraph in a store.
	CaptureTo string `pkl:"captureTo"`

	PIC   bool `pkl:"pic"`
	NoPIC bool `pkl:"noPic"`

	// PICAfterNoPIC makes a platform's PIC unit wait for its non-PIC unit.
	PICAfterNoPIC bool `pkl:"picAfterNoPic"`

	Workers int `pkl:"workers" validate:"gte=0,lte=256"`

	// UnitTimeoutSeconds bounds a single configurator run. Zero uses the default.
	UnitTimeoutSeconds int `pkl:"unitTimeoutSeconds" validate:"gte=0"`

	Flags map[string]string `pkl:"flags"`

	// KeepResources are resource patterns kept even when no command uses them.
	KeepResources []string `pkl:"keepResources"`

	CollapseChains bool `pkl:"collapseChains"`

	// PGOMarker triggers a rehash of every node whose argv contains it.
	PGOMarker string `pkl:"pgoMarker"`
	PGOSalt   string `pkl:"pgoSalt" validate:"required_with=PGOMarker"`

	// ResultFilter keeps only result outputs with one of these suffixes.
	ResultFilter []string `pkl:"resultFilter"`

	RenameCollisions bool `pkl:"renameCollisions"`

	CopyCmd []string `pkl:"copyCmd"`

	ExtraResources []ResourceSpec `pkl:"extraResources" validate:"dive"`

	StripCommonTags bool `pkl:"stripCommonTags"`
}

// ResourceSpec is a resource appended to the final graph conf. An empty
// Locator is resolved by name at finalization.
type ResourceSpec struct {
	Pattern  string `pkl:"pattern" validate:"required"`
	Name     string `pkl:"name" validate:"required_without=Locator"`
	Locator  string `pkl:"locator"`
	Optional bool   `pkl:"optional"`
}
