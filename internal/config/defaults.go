package config

const (
	defaultLogDir           = "~/.local/share/cvt2bids/logs"
	defaultStateDir         = "~/.local/share/cvt2bids"
	defaultConverterBinary  = "dcm2bids"
	defaultDcm2niixBinary   = "dcm2niix"
	defaultRegistryFileName = "participants.tsv"
	defaultIDDigits         = 5
	defaultFallbackSession  = "1"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// DefaultIDColumns are the multi-valued source identifier columns searched
// when resolving a raw DICOM patient id.
var DefaultIDColumns = []string{"osepa_id", "lab_id", "neurorad_id", "dcm_header_id"}

// DefaultSidecarFields are the JSON sidecar keys aggregated per participant.
var DefaultSidecarFields = []string{
	"PatientName",
	"PatientID",
	"PatientBirthDate",
	"PatientAge",
	"PatientSex",
	"AcquisitionDateTime",
	"DeviceSerialNumber",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Converter: Converter{
			Binary:         defaultConverterBinary,
			Dcm2niixBinary: defaultDcm2niixBinary,
			ForceDcm2niix:  true,
		},
		Registry: Registry{
			FileName:  defaultRegistryFileName,
			IDColumns: append([]string(nil), DefaultIDColumns...),
			IDDigits:  defaultIDDigits,
		},
		Workflow: Workflow{
			FallbackSession: defaultFallbackSession,
		},
		Sidecar: Sidecar{
			Fields: append([]string(nil), DefaultSidecarFields...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
