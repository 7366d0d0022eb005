package manifest

import (
	"errors"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.manifest")

// schema constrains a decoded manifest.
const schema = `
#Config: {
	engine: {
		address:  string
		simulate: bool
		codec:    "cbor" | "engineproto"
	}
	remote: listen: string
	log: {
		verbosity: int & >=-4 & <=2
		file:      string
	}
	store: path: string
	menu: {
		"transition-scale":  number & >=0 & <=10
		"auto-action-depth": int & >=0 & <=64
	}
	display: {
		width:  int & >=0 & <=16384
		height: int & >=0 & <=16384
	}
	driver: "step-limit": int & >0
}
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schema, cue.Filename("bdplay.cue"))
		if err := v.Err(); err != nil {
			schemaErr = err
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Config"))
	})
	return schemaCtx, schemaValue, schemaErr
}

// Validate checks m against the configuration schema.
func Validate(m *Manifest) error {
	ctx, def, err := compiledSchema()
	if err != nil {
		return err
	}
	v := def.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}
	return nil
}
