package status

// FAILURE register bits.
const (
	FailEmergencyButton uint8 = iota
	FailClosePump
	FailLeak
	FailLowLevel
	FailHighPressure
	FailTwoPump
	FailHighCoolantTemp
	FailLowFlow
	FailHexFan
	FailHighAirTemp
	FailRPUFan
)

// LED_FAULT register bits, one per fault category lighting the fault LED.
const (
	LEDFaultPump uint8 = iota
	LEDFaultRPUFan
	LEDFaultHexFan
	LEDFaultHighPressure
	LEDFaultLowLevel
	LEDFaultHighAirTemp
	LEDFaultHighCoolantTemp
	LEDFaultFlow
	LEDFaultLeak
)

// STATUS_ALARM register bits.
const (
	AlarmPumpAbnormal uint8 = iota
	AlarmReservoirAbnormal
	AlarmHexAirInletTemp
	AlarmCoolantTemp
	AlarmPressure
	AlarmFlow
)

// RESERVOIR register bits (1 = level sensor reports liquid).
const (
	ReservoirLevel1 uint8 = iota
	ReservoirLevel2
)

// SENSOR_ALARM bit for the bladder/reservoir level sensor.
const SensorAlarmLevel uint8 = 15

// AutoTuneEnable is the AUTO_TUNE bit enabling table-driven control.
const AutoTuneEnable uint8 = 0
