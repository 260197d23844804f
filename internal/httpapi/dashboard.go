package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Credential Portal</title>
  <style>
    :root {
      --ink: #1c2430;
      --paper: #f4f6fa;
      --card: #ffffff;
      --line: #d5dbe6;
      --accent: #2b6cb0;
      --warn: #b7791f;
      --danger: #c53030;
      --muted: #718096;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f8fafc 0%, #eef3f9 60%, #fdfdfd 100%);
      min-height: 100vh;
      padding: 24px;
    }

    .shell {
      max-width: 880px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 18px;
      box-shadow: 0 10px 24px rgba(28, 36, 48, 0.08);
    }

    h1 { margin: 0 0 4px; font-size: 1.5rem; }
    .muted { color: var(--muted); font-size: 0.9rem; }

    .lookup { display: flex; gap: 8px; margin-top: 10px; }
    .lookup input {
      flex: 1;
      padding: 10px 12px;
      border: 1px solid var(--line);
      border-radius: 10px;
      font-size: 1rem;
    }
    .lookup button {
      padding: 10px 18px;
      border: none;
      border-radius: 10px;
      background: var(--accent);
      color: #fff;
      font-size: 1rem;
      cursor: pointer;
    }

    #status { margin-top: 10px; font-size: 0.95rem; }
    #status.ok { color: var(--accent); }
    #status.warn { color: var(--warn); }
    #status.err { color: var(--danger); }

    #result dl { display: grid; grid-template-columns: 140px 1fr; gap: 6px; margin: 0; }
    #result dt { color: var(--muted); }
    #result dd { margin: 0; }

    ul.links { list-style: none; padding: 0; margin: 10px 0 0; display: grid; gap: 6px; }
    ul.links a { color: var(--accent); text-decoration: none; }

    #feed { display: grid; gap: 8px; margin-top: 10px; }
    #feed .note {
      border-left: 3px solid var(--accent);
      background: #f0f5fb;
      border-radius: 8px;
      padding: 8px 12px;
    }
  </style>
</head>
<body>
  <div class="shell">
    <div class="card">
      <h1>Credential Portal</h1>
      <div class="muted">Enter a document number to look up the matching credential.</div>
      <div class="lookup">
        <input id="doc" placeholder="Document number" autocomplete="off" />
        <button id="go">Verify</button>
      </div>
      <div id="status" class="muted"></div>
    </div>

    <div class="card" id="result" hidden>
      <h1 style="font-size:1.1rem">Record</h1>
      <dl>
        <dt>Name</dt><dd id="r-name"></dd>
        <dt>Document</dt><dd id="r-doc"></dd>
        <dt>Plan</dt><dd id="r-plan"></dd>
        <dt>Status</dt><dd id="r-status"></dd>
        <dt>Payment</dt><dd id="r-payment"></dd>
      </dl>
      <ul class="links" id="links"></ul>
    </div>

    <div class="card">
      <h1 style="font-size:1.1rem">Announcements</h1>
      <div class="muted">Live feed; new announcements appear without a refresh.</div>
      <div id="feed"></div>
    </div>
  </div>

  <script>
    (function () {
      const dom = {
        doc: document.getElementById("doc"),
        go: document.getElementById("go"),
        status: document.getElementById("status"),
        result: document.getElementById("result"),
        links: document.getElementById("links"),
        feed: document.getElementById("feed"),
      };

      function setStatus(text, cls) {
        dom.status.textContent = text;
        dom.status.className = cls || "muted";
      }

      async function verify() {
        const doc = dom.doc.value.trim();
        if (!doc) {
          setStatus("enter a document number", "warn");
          return;
        }
        setStatus("checking…");
        dom.result.hidden = true;
        try {
          const res = await fetch("/v1/credentials/verify?doc=" + encodeURIComponent(doc));
          const body = await res.json();
          if (!res.ok) {
            setStatus(body.message || "lookup failed", res.status === 403 ? "err" : "warn");
            return;
          }
          if (body.adminAccess) {
            setStatus("admin access granted", "ok");
            return;
          }
          const r = body.record;
          document.getElementById("r-name").textContent = r.fullName;
          document.getElementById("r-doc").textContent = (r.documentType || "") + " " + r.id;
          document.getElementById("r-plan").textContent = r.plan;
          document.getElementById("r-status").textContent = r.status;
          document.getElementById("r-payment").textContent = r.paymentDate || "Pending";
          dom.links.innerHTML = "";
          for (const [subject, url] of Object.entries(body.links || {})) {
            const li = document.createElement("li");
            const a = document.createElement("a");
            a.href = url;
            a.textContent = subject;
            a.target = "_blank";
            li.appendChild(a);
            dom.links.appendChild(li);
          }
          dom.result.hidden = false;
          setStatus("credential active", "ok");
        } catch (err) {
          setStatus("network error: " + err, "err");
        }
      }

      function connectFeed() {
        const proto = location.protocol === "https:" ? "wss:" : "ws:";
        const ws = new WebSocket(proto + "//" + location.host + "/v1/notifications/stream");
        ws.onmessage = function (ev) {
          try {
            const event = JSON.parse(ev.data);
            const note = document.createElement("div");
            note.className = "note";
            note.textContent = event.title + ": " + event.body;
            dom.feed.prepend(note);
          } catch (_) {}
        };
        ws.onclose = function () {
          setTimeout(connectFeed, 5000);
        };
      }

      dom.go.addEventListener("click", verify);
      dom.doc.addEventListener("keydown", function (ev) {
        if (ev.key === "Enter") verify();
      });
      connectFeed();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
