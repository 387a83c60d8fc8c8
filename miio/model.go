package miio

import "strings"

// ModelType is the fan's tagged model classification. It drives which MIoT
// property (siid, piid) a speed command targets and whether speed is a
// percent or a 3-level fan_level.
type ModelType int

const (
	ModelUnknown ModelType = iota
	ModelZhimiFanZA5
	ModelZhimiFanZA4
	ModelZhimiFanV3
	ModelDmakerFan1C
	ModelDmakerFanP5
	ModelDmakerFanP9
	ModelDmakerFanP10
	ModelDmakerFanP11
	ModelXiaomiFanP76
)

func (t ModelType) String() string {
	switch t {
	case ModelZhimiFanZA5:
		return "ZHIMI_FAN_ZA5"
	case ModelZhimiFanZA4:
		return "ZHIMI_FAN_ZA4"
	case ModelZhimiFanV3:
		return "ZHIMI_FAN_V3"
	case ModelDmakerFan1C:
		return "DMAKER_FAN_1C"
	case ModelDmakerFanP5:
		return "DMAKER_FAN_P5"
	case ModelDmakerFanP9:
		return "DMAKER_FAN_P9"
	case ModelDmakerFanP10:
		return "DMAKER_FAN_P10"
	case ModelDmakerFanP11:
		return "DMAKER_FAN_P11"
	case ModelXiaomiFanP76:
		return "XIAOMI_FAN_P76"
	default:
		return "UNKNOWN"
	}
}

// SpeedParams is the MIoT property address and encoding used to set a fan's
// speed: (siid, piid) plus whether the value is a 3-level fan_level or a
// 1..100 percent fan_speed.
type SpeedParams struct {
	SIID        int
	PIID        int
	UseFanLevel bool
}

var speedParamsByType = map[ModelType]SpeedParams{
	ModelZhimiFanZA5:  {SIID: 6, PIID: 8, UseFanLevel: false},
	ModelZhimiFanZA4:  {SIID: 6, PIID: 8, UseFanLevel: false},
	ModelZhimiFanV3:   {SIID: 6, PIID: 8, UseFanLevel: false},
	ModelDmakerFan1C:  {SIID: 2, PIID: 2, UseFanLevel: true},
	ModelDmakerFanP5:  {SIID: 2, PIID: 6, UseFanLevel: false},
	ModelDmakerFanP9:  {SIID: 2, PIID: 11, UseFanLevel: false},
	ModelDmakerFanP10: {SIID: 2, PIID: 10, UseFanLevel: false},
	ModelDmakerFanP11: {SIID: 2, PIID: 6, UseFanLevel: false},
	ModelXiaomiFanP76: {SIID: 2, PIID: 5, UseFanLevel: false},
	ModelUnknown:      {SIID: 6, PIID: 8, UseFanLevel: false},
}

// SpeedParamsFor returns the MIoT (siid, piid, useFanLevel) triple for t.
func SpeedParamsFor(t ModelType) SpeedParams {
	if p, ok := speedParamsByType[t]; ok {
		return p
	}
	return speedParamsByType[ModelUnknown]
}

// PowerSIID and PowerPIID address the power property on every supported
// model: siid=2, piid=1, a boolean value — independent of ModelType.
const (
	PowerSIID = 2
	PowerPIID = 1
)

// IsSupportedModel reports whether model carries one of the three accepted
// vendor prefixes.
func IsSupportedModel(model string) bool {
	return strings.HasPrefix(model, "zhimi.fan.") ||
		strings.HasPrefix(model, "dmaker.fan.") ||
		strings.HasPrefix(model, "xiaomi.fan.")
}

// ModelTypeOf classifies model by its last three characters. Unrecognized
// suffixes map to ModelUnknown, whose speed parameters still default to
// (6, 8, false).
func ModelTypeOf(model string) ModelType {
	if len(model) < 3 {
		return ModelUnknown
	}
	suffix := model[len(model)-3:]
	switch suffix {
	case "za5":
		return ModelZhimiFanZA5
	case "za4", "za3":
		return ModelZhimiFanZA4
	case ".v2", ".v3":
		return ModelZhimiFanV3
	case ".1c":
		return ModelDmakerFan1C
	case ".p5":
		return ModelDmakerFanP5
	case ".p8", ".p9":
		return ModelDmakerFanP9
	case "p10", "p18":
		return ModelDmakerFanP10
	case "p11", "p15", "p30", "p33", "220":
		return ModelDmakerFanP11
	case "p76":
		return ModelXiaomiFanP76
	default:
		return ModelUnknown
	}
}

// SpeedLevel maps a 1..100 percent to the 3-level scale used by models with
// UseFanLevel set: ≤33 → 1, 34..66 → 2, 67..100 → 3.
func SpeedLevel(percent uint8) uint8 {
	switch {
	case percent <= 33:
		return 1
	case percent <= 66:
		return 2
	default:
		return 3
	}
}

// ClampSpeedPercent clamps a requested speed percent to the valid [1,100]
// range accepted by set_speed.
func ClampSpeedPercent(percent int) uint8 {
	if percent < 1 {
		return 1
	}
	if percent > 100 {
		return 100
	}
	return uint8(percent)
}
