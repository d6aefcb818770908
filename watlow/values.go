package watlow

import "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"

// Register codes used directly by the controller logic.
const (
	codeAuto       uint16 = 10
	codeError      uint16 = 28
	codeFail       uint16 = 32
	codeManual     uint16 = 54
	codeNo         uint16 = 59
	codeNone       uint16 = 61
	codeOff        uint16 = 62
	codeOn         uint16 = 63
	codeStartup    uint16 = 88
	codeUser       uint16 = 100
	codeYes        uint16 = 106
	codePause      uint16 = 146
	codeResume     uint16 = 147
	codeTerminate  uint16 = 148
	codeRunning    uint16 = 149
	codeAdd        uint16 = 1375
	codeUp         uint16 = 1456
	codeDown       uint16 = 1457
	codeDelete     uint16 = 1772
	codeStart      uint16 = 1782
	codeTimedStart uint16 = 1783
)

// alarmIdle lists the alarm state codes of an alarm that is not active.
var alarmIdle = map[uint16]bool{codeStartup: true, codeNone: true, 12: true}

// Values maps F4T enumeration register codes to their names.
var Values = codec.NewEnum(map[uint16]string{
	1: "2", 2: "3", 3: "50Hz", 4: "60Hz", 9: "ambientError",
	10: "auto", 11: "b", 13: "both", 15: "C", 17: "closeOnAlarm",
	22: "current", 23: "d", 24: "deviationAlarm", 26: "e", 27: "end", 28: "error",
	30: "F", 31: "factory", 32: "fail", 34: "fixedTimeBase", 37: "high", 39: "hours",
	40: "hundredths", 44: "inputDryContact", 46: "j", 47: "hold", 48: "k", 49: "latching",
	53: "low", 54: "manual", 56: "millivolts", 57: "minutes", 58: "n", 59: "no",
	60: "nonLatching", 61: "none", 62: "off", 63: "on", 65: "open", 66: "openOnAlarm",
	68: "output",
	73: "power", 75: "process", 76: "processAlarm",
	80: "r", 81: "ramprate", 84: "s", 85: "setPoint", 87: "soak", 88: "startup",
	93: "t", 94: "tenths", 95: "thermocouple", 96: "thousandths",
	100: "user", 103: "variableTimeBase", 104: "volts", 105: "whole", 106: "yes",
	108: "silenceAlarms",
	112: "milliamps", 113: "rtd100ohm", 114: "rtd1000ohm", 116: "jump",
	127: "shorted", 129: "clear",
	138: "ok", 139: "badCalibrationData",
	140: "measurementError", 141: "rtdError", 142: "analogInput", 146: "pause", 147: "resume",
	148: "terminate", 149: "running",
	155: "1kpotentiometer",
	160: "heatPower", 161: "coolPower",
	180: "custom",
	193: "inputVoltage",
	204: "ignore",
	240: "math", 241: "processValue", 242: "setPointClosed", 243: "setPointOpen",
	245: "variable", 246: "notsourced",
	251: "notStarted", 252: "complete", 253: "terminated",
	1037: "counts",
	1276: "electrical",
	1360: "10k", 1361: "20k", 1375: "add",
	1423: "mathError", 1448: "5k", 1449: "40k", 1451: "curveA", 1452: "curveB", 1453: "curveC",
	1456: "up", 1457: "down",
	1532: "specialFunctionOutput1", 1533: "specialFunctionOutput2",
	1534: "specialFunctionOutput3", 1535: "specialFunctionOutput4",
	1538: "%RH", 1540: "absoluteTemperature", 1541: "relativeTemperature", 1542: "wait",
	1557: "nc",
	1617: "stale", 1667: "safe",
	1740: "encoder", 1770: "edit", 1771: "insert", 1772: "delete", 1779: "profileNumber",
	1782: "start", 1783: "timedStart",
	1794: "cascadeHeatPower", 1795: "cascadeCoolPower", 1796: "cascadePower",
	1797: "cascadeSetPointClosed", 1798: "cascadeSetPointOpen",
	1927: "instant", 1928: "ramptime", 1964: "above", 1965: "below",
	10001: "condition",
})

// loopModes names the codes of the loop control mode registers.
var loopModes = codec.NewEnum(map[uint16]string{
	codeOff:    "Off",
	codeAuto:   "Auto",
	codeManual: "Manual",
})
