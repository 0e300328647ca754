package isolate

import (
	_ "github.com/icyseptember2237/isolate/backend/js"
	_ "github.com/icyseptember2237/isolate/backend/lua"
)
