package node

import (
	"github.com/alnah/smplexport/internal/config"
	"github.com/alnah/smplexport/internal/smpl"
)

// SaveSMPL node identifiers and sockets.
const (
	SaveSMPLID       = "SaveSMPL"
	InputSMPLParams  = "smpl_params"
	InputNpzOutput   = "npz_output_path"
	InputPklOutput   = "pkl_output_path"
	OutputFilePath   = "file_path"
	OutputInfo       = "info"
	categorySMPL     = "MotionCapture/SMPL"
	displaySaveSMPL  = "Save SMPL Motion"
	functionSaveSMPL = "save_smpl"
)

func saveSMPL() Descriptor {
	return Descriptor{
		ID:          SaveSMPLID,
		DisplayName: displaySaveSMPL,
		Category:    categorySMPL,
		Function:    functionSaveSMPL,
		Output:      true,
		Inputs: []Input{
			{Name: InputSMPLParams, Type: TypeSMPLParams},
			{Name: InputNpzOutput, Type: TypeString, Default: config.DefaultNpzOutput},
			{Name: InputPklOutput, Type: TypeString, Default: config.DefaultPklOutput},
		},
		ReturnTypes: []string{TypeString, TypeString},
		ReturnNames: []string{OutputFilePath, OutputInfo},
		run:         runSaveSMPL,
	}
}

func runSaveSMPL(rt Runtime, in inputs) ([]any, error) {
	path, info := rt.Exporter.Export(
		in[InputSMPLParams].(smpl.ParameterBundle),
		in[InputNpzOutput].(string),
		in[InputPklOutput].(string),
	)
	return []any{path, info}, nil
}
