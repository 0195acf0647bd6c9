package preview

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

const pageStyle = `body{margin:0;background:#e5e5e5;font-family:system-ui,sans-serif}
header{position:sticky;top:0;padding:.5rem 1rem;background:#222;color:#eee;font-size:.9rem}
main{display:flex;flex-direction:column;align-items:center;gap:1rem;padding:1rem}
img{background:#fff;box-shadow:0 1px 4px rgba(0,0,0,.3);max-width:100%}
pre.error{margin:1rem;padding:1rem;background:#fee;color:#900;white-space:pre-wrap}`

const reloadScript = `(function(){
var proto = location.protocol === "https:" ? "wss://" : "ws://";
function connect(){
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onmessage = function(){ location.reload(); };
  ws.onclose = function(){ setTimeout(connect, 1000); };
}
connect();
})();`

// pageView renders the preview page for snap.
func pageView(title string, snap Snapshot) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		escTitle := templ.EscapeString(title)
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body>`,
			escTitle, pageStyle); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<header>%s &middot; render %d &middot; %d page(s)</header>`,
			escTitle, snap.Version, len(snap.Pages)); err != nil {
			return err
		}
		if snap.Error != "" {
			if _, err := fmt.Fprintf(w, `<pre class="error">%s</pre>`, templ.EscapeString(snap.Error)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "<main>"); err != nil {
			return err
		}
		for i := range snap.Pages {
			if _, err := fmt.Fprintf(w, `<img src="/page/%d?v=%d" alt="Page %d">`, i+1, snap.Version, i+1); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `</main><script nonce="%s">%s</script></body></html>`,
			templ.EscapeString(templ.GetNonce(ctx)), reloadScript)
		return err
	})
}

func pageHandler(title string, snap Snapshot) *templ.ComponentHandler {
	return templ.Handler(pageView(title, snap))
}
