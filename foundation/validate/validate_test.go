package validate_test

import (
	"testing"

	"github.com/ardanlabs/powledger/foundation/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type payload struct {
	To     string `json:"toAddress" validate:"required,address"`
	Amount string `json:"amount" validate:"required"`
}

func Test_Check(t *testing.T) {
	type table struct {
		name   string
		val    payload
		fields []string
	}

	tt := []table{
		{name: "valid", val: payload{To: "6c7f05cca415fd2073de8ea8853834", Amount: "10"}},
		{name: "missing", val: payload{}, fields: []string{"toAddress", "amount"}},
		{name: "badhex", val: payload{To: "zz", Amount: "1"}, fields: []string{"toAddress"}},
		{name: "oddhex", val: payload{To: "abc", Amount: "1"}, fields: []string{"toAddress"}},
	}

	t.Log("Given the need to validate request payloads.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				err := validate.Check(tst.val)

				if len(tst.fields) == 0 {
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould pass validation: %s", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould pass validation.", success, testID)
					return
				}

				fe := validate.GetFieldErrors(err)
				if fe == nil {
					t.Fatalf("\t%s\tTest %d:\tShould get field errors: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould get field errors.", success, testID)

				fields := fe.Fields()
				for _, name := range tst.fields {
					if _, exists := fields[name]; !exists {
						t.Logf("\t\tTest %d:\tgot: %v", testID, fields)
						t.Fatalf("\t%s\tTest %d:\tShould report field %s.", failed, testID, name)
					}
				}
				t.Logf("\t%s\tTest %d:\tShould report every failing field.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}
