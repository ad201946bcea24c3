package client

import "strings"

// MachineTypes is the vocabulary offered when selecting a machine type.
var MachineTypes = dedupe([]string{
	"MRI Machine",
	"CT Scanner",
	"Ultrasound Machine",
	"X-Ray Machine",
	"ECG Machine",
	"Ventilator",
	"Dialysis Machine",
	"Infusion Pump",
	"Anesthesia Machine",
	"Defibrillator",
	"Endoscope",
	"Patient Monitor",
})

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// lookupMachineType resolves a 1-based index or a case-insensitive name.
func lookupMachineType(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if n, ok := parseIndex(arg, len(MachineTypes)); ok {
		return MachineTypes[n], true
	}
	for _, mt := range MachineTypes {
		if strings.EqualFold(mt, arg) {
			return mt, true
		}
	}
	return "", false
}
