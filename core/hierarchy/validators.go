package hierarchy

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/orgpanel/core"
)

var (
	nodeTypeTag   = "nodetype"
	nodeTypeText  = "node type must be 1 to 40 letters, digits, underscores or spaces"
	nodeTypeRegex = regexp.MustCompile(`^[\p{L}\p{N}_ ]{1,40}$`)
)

// InitValidators registers the hierarchy validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(nodeTypeTag, nodeTypeValidation)
	core.RegisterCustomTranslation(validate, translator, nodeTypeTag, nodeTypeText)
}

// nodeTypeValidation accepts built-in and custom node types.
func nodeTypeValidation(fl validator.FieldLevel) bool {
	return nodeTypeRegex.MatchString(fl.Field().String())
}
