package lua

import (
	"crypto/tls"
	"net/http"

	"github.com/ailncode/gluaxmlpath"
	"github.com/cjoudrey/gluaurl"
	"github.com/ciaos/gluahttp"
	"github.com/icyseptember2237/isolate/backend"
	"github.com/yuin/gluare"
	luajson "layeh.com/gopher-json"
)

// Modules lists the script modules this backend can preload.
var Modules = []string{"json", "url", "re", "http", "xmlpath"}

func (rt *Runtime) preload(modules []string) error {
	if modules == nil {
		modules = Modules
	}
	for _, name := range modules {
		switch name {
		case "json":
			luajson.Preload(rt.L)
		case "url":
			rt.L.PreloadModule("url", gluaurl.Loader)
		case "re":
			rt.L.PreloadModule("re", gluare.Loader)
		case "http":
			client := rt.opts.HTTPClient
			if client == nil {
				client = &http.Client{
					Transport: &http.Transport{
						TLSClientConfig: &tls.Config{
							InsecureSkipVerify: true,
						},
					},
				}
			}
			rt.L.PreloadModule("http", gluahttp.NewHttpModule(client).Loader)
		case "xmlpath":
			rt.L.PreloadModule("xmlpath", gluaxmlpath.Loader)
		default:
			return &backend.Error{Kind: backend.ErrInit, Message: "unknown lua module " + name}
		}
	}
	return nil
}
