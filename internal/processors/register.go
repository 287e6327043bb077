package processors

import "github.com/aura/underwriting/internal/engine"

// All returns the constructors of every shipped processor.
func All() []func() engine.Processor {
	return []func() engine.Processor{
		NewApplicationProcessor,
		NewBankStatementProcessor,
		NewDriversLicenseProcessor,
		NewDocumentProcessor,
	}
}

// RegisterAll populates a registry with every shipped processor.
func RegisterAll(reg *engine.Registry) {
	for _, ctor := range All() {
		reg.Register(ctor)
	}
}
