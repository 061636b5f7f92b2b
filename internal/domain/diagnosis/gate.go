package diagnosis

// checkCompletion is the clinical completion gate. Every non-cancelled lab
// result must be COMPLETED, at least one must exist when tests are required,
// and a prescription must exist when the record is marked prescribed.
func checkCompletion(d *Diagnosis) error {
	labs := 0
	for _, lr := range d.LabResults {
		switch lr.Status {
		case LabCancelled:
			continue
		case LabPending:
			return ErrLabResultsPending
		}
		labs++
	}
	if d.RequiresLabTests && labs == 0 {
		return ErrLabResultsMissing
	}

	if d.Prescribed {
		for _, p := range d.Prescriptions {
			if p.Status != RxCancelled {
				return nil
			}
		}
		return ErrPrescriptionMissing
	}
	return nil
}
