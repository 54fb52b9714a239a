package core

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayment struct {
	Term   string           `json:"term" validate:"required,notblank"`
	Amount *decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Note   string           `json:"-"`
}

func newValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	InitValidators(validate, translator)
	return validate, translator
}

func TestInitValidators(t *testing.T) {
	validate, translator := newValidator()
	amount := func(n int64) *decimal.Decimal {
		d := decimal.NewFromInt(n)
		return &d
	}

	tests := []struct {
		name    string
		payment testPayment
		want    map[string]string
	}{
		{name: "valid", payment: testPayment{Term: "First Term", Amount: amount(5000)}},
		{name: "missing", payment: testPayment{}, want: map[string]string{
			"term":   "this field is required",
			"amount": "this field is required",
		}},
		{name: "blank term", payment: testPayment{Term: "   ", Amount: amount(1)}, want: map[string]string{
			"term": "term must not be blank",
		}},
		{name: "zero amount", payment: testPayment{Term: "First Term", Amount: amount(0)}, want: map[string]string{
			"amount": "amount must be greater than 0",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.payment)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			var vErrs validator.ValidationErrors
			require.ErrorAs(t, err, &vErrs)

			got := make(map[string]string)
			for _, fe := range vErrs {
				got[fe.Field()] = fe.Translate(translator)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
