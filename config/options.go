package config

// Known option keys, mirroring drivesystemoptions's module-level Option
// instances one for one.
const (
	KeySilencerLength              = "SilencerLength"
	KeyExperimentalMode            = "ExperimentalMode"
	KeyGrafanaAuthentication       = "GrafanaAuthentication"
	KeyTargetLadderDimension       = "TargetLadderDimension"
	KeyBeamBlockerEnabled          = "BeamBlockerEnabled"
	KeyDisabledAxes                = "DisabledAxes"
	KeyTargetLadderImagePath       = "TargetLadderImagePath"
	KeyBeamBlockerImagePath        = "BeamBlockerImagePath"
	Key2DLadderLabelMapPath        = "2DLadderLabelMapPath"
	Key2DLadderEncoderPosMapPath   = "2DLadderEncoderPositionMapPath"
	KeyArrayTipToLadderDistance    = "ArrayTipToTargetLadderDistanceAtSpecifiedEncoderPositions"
	KeyEncoderAxisOne              = "EncoderAxis1"
	KeyEncoderAxisTwo              = "EncoderAxis2"
	KeyTargetLadderAxis3Reference  = "TargetLadderAxis3ReferencePoint"
	KeyTargetLadderAxis5Reference  = "TargetLadderAxis5ReferencePoint"
	KeyTargetLadderReferencePoint  = "TargetLadderReferencePointID"
	KeyBeamBlockerAxis6Reference   = "BeamBlockerAxis6ReferencePoint"
	KeyBeamBlockerAxis7Reference   = "BeamBlockerAxis7ReferencePoint"
	KeyBeamBlockerReferencePoint   = "BeamBlockerReferencePointID"

	// CLI-only overrides, never read from the options file.
	KeySerialPort       = "SerialPort"
	KeyOptionsFile      = "OptionsFile"
	KeyDarkMode         = "DarkMode"
	KeyMonitorResources = "MonitorResources"
	KeyNoGUI            = "NoGUI"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

// NewDriveSystemStore builds the store with every option this system
// recognises registered, defaults and validators matching
// drivesystemoptions.py's module-level Option() calls.
func NewDriveSystemStore() *Store {
	s := NewStore()

	s.Register(KeySilencerLength, nil, Float(floatPtr(0.0), nil), false, "")
	s.Register(KeyExperimentalMode, true, Bool(), false, "")
	s.Register(KeyGrafanaAuthentication, nil, String(), false, "")
	s.Register(KeyTargetLadderDimension, 2, Int(intPtr(1), intPtr(2)), false, "")
	s.Register(KeyBeamBlockerEnabled, true, Bool(), false, "")
	s.Register(KeyDisabledAxes, []int{}, IntCSV(), false, "")
	s.Register(KeyTargetLadderImagePath, nil, String(), false, "")
	s.Register(KeyBeamBlockerImagePath, nil, String(), false, "")
	s.Register(Key2DLadderLabelMapPath, "id_label_map.txt", String(), false, "")
	s.Register(Key2DLadderEncoderPosMapPath, "id_dist_map.txt", String(), false, "")
	s.Register(KeyArrayTipToLadderDistance, nil, Float(floatPtr(0.0), nil), true,
		"Distance between array tip and target ladder MUST be supplied")
	s.Register(KeyEncoderAxisOne, nil, Int(nil, nil), true,
		"Encoder position for axis one MUST be supplied")
	s.Register(KeyEncoderAxisTwo, nil, Int(nil, nil), true,
		"Encoder position for axis two MUST be supplied")
	s.Register(KeyTargetLadderAxis3Reference, nil, Float(nil, nil), true,
		"Reference point for axis three MUST be supplied")
	s.Register(KeyTargetLadderAxis5Reference, nil, Float(nil, nil), true,
		"Reference point for axis five MUST be supplied")
	s.Register(KeyTargetLadderReferencePoint, nil, String(), false, "")
	s.Register(KeyBeamBlockerAxis6Reference, nil, Float(nil, nil), false, "")
	s.Register(KeyBeamBlockerAxis7Reference, nil, Float(nil, nil), false, "")
	s.Register(KeyBeamBlockerReferencePoint, nil, String(), false, "")

	s.RegisterCLI(KeySerialPort, "/dev/ttyS0", String())
	s.RegisterCLI(KeyOptionsFile, "options.txt", String())
	s.RegisterCLI(KeyDarkMode, false, Bool())
	s.RegisterCLI(KeyMonitorResources, false, Bool())
	s.RegisterCLI(KeyNoGUI, false, Bool())

	return s
}

// GetBlockingDistance returns the silencer's total blocking distance,
// matching drivesystemoptions.get_blocking_distance.
func (s *Store) GetBlockingDistance() float64 {
	return s.Float(KeySilencerLength) + 18.5 - 32.6
}

// GetSilencerLengthFromTip returns the silencer's physical length from the
// array tip, matching drivesystemoptions.get_silencer_length_from_tip.
func (s *Store) GetSilencerLengthFromTip() float64 {
	v := s.Float(KeySilencerLength) - 32.6
	if v < 0 {
		return 0
	}
	return v
}
