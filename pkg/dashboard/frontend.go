package dashboard

import "net/http"

func (d *Dashboard) serveFrontend(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(frontendHTML))
}

const frontendHTML = `<!DOCTYPE html>
<html lang="en"><head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>Buy Bot</title>
<style>
:root{--bg:#08090d;--sf:#0f1118;--sf2:#161923;--bd:#252a3a;--tx:#c8cdd8;--tx2:#8891a5;--tx3:#5a6278;--ac:#3b82f6;--gn:#10b981;--rd:#ef4444;--or:#f59e0b}
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:ui-monospace,Menlo,monospace;background:var(--bg);color:var(--tx);min-height:100vh}
.app{max-width:1280px;margin:0 auto;padding:20px 24px}
.hdr{display:flex;align-items:center;padding:16px 0;border-bottom:1px solid var(--bd);margin-bottom:24px}
.hdr h1{font-size:22px;font-weight:700;color:var(--ac)}
.live{font-size:9px;padding:3px 10px;border-radius:20px;color:var(--gn);border:1px solid rgba(16,185,129,.2);letter-spacing:1.5px;margin-left:12px}
.sts{display:grid;grid-template-columns:repeat(auto-fit,minmax(150px,1fr));gap:12px;margin-bottom:24px}
.st{background:var(--sf);border:1px solid var(--bd);border-radius:10px;padding:15px 16px}
.st .v{font-size:24px;font-weight:700}.st .l{font-size:9px;color:var(--tx3);text-transform:uppercase;letter-spacing:.8px;margin-top:5px}
.pn{background:var(--sf);border:1px solid var(--bd);border-radius:12px;margin-bottom:18px;overflow:hidden}
.pn h2{font-size:13px;padding:13px 18px;border-bottom:1px solid var(--bd);background:var(--sf2)}
table{width:100%;border-collapse:collapse}
th{text-align:left;font-size:9px;color:var(--tx3);text-transform:uppercase;padding:10px 14px;border-bottom:1px solid var(--bd)}
td{padding:10px 14px;border-bottom:1px solid rgba(37,42,58,.4);font-size:12px}
.ok{color:var(--gn)}.bad{color:var(--rd)}.warn{color:var(--or)}.dim{color:var(--tx2)}
</style></head>
<body><div class="app">
<div class="hdr"><h1>Buy Bot</h1><span class="live">LIVE</span></div>
<div class="sts" id="stats"></div>
<div class="pn"><h2>Chains</h2><table><thead><tr><th>chain</th><th>state</th><th>last dial</th><th>error</th></tr></thead><tbody id="chains"></tbody></table></div>
<div class="pn"><h2>Pairs</h2><table><thead><tr><th>pair</th><th>symbol</th><th>min / small / medium</th><th>scan</th><th>watermark</th><th>error</th></tr></thead><tbody id="pairs"></tbody></table></div>
<div class="pn"><h2>Recent alerts</h2><table><thead><tr><th>time</th><th>pair</th><th>tier</th><th>usd</th><th>tx</th></tr></thead><tbody id="alerts"></tbody></table></div>
</div>
<script>
const esc=s=>String(s==null?'':s).replace(/[&<>"]/g,c=>({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;'}[c]));
const short=s=>s&&s.length>14?s.slice(0,8)+'...'+s.slice(-4):s;
const get=u=>fetch(u).then(r=>r.json());
const row=cells=>'<tr>'+cells.map(c=>'<td>'+c+'</td>').join('')+'</tr>';
function load(){
  get('/api/stats').then(s=>{document.getElementById('stats').innerHTML=Object.entries(s).map(([k,v])=>'<div class="st"><div class="v">'+esc(v)+'</div><div class="l">'+esc(k.replace(/_/g,' '))+'</div></div>').join('')}).catch(()=>{});
  get('/api/chains').then(cs=>{document.getElementById('chains').innerHTML=(cs||[]).map(c=>row([esc(c.chain),c.live?'<span class="ok">live</span>':'<span class="bad">down</span>','<span class="dim">'+esc(new Date(c.last_dial).toLocaleTimeString())+'</span>','<span class="warn">'+esc(c.last_error)+'</span>'])).join('')}).catch(()=>{});
  get('/api/pairs').then(ps=>{document.getElementById('pairs').innerHTML=(ps||[]).map(p=>{const s=p.scan||{};return row([esc(short(p.key)),esc(p.symbol),esc(p.minimum_buy+' / '+p.small_buy+' / '+p.medium_buy),p.enabled?esc(s.state||'pending'):'<span class="dim">disabled</span>',esc(s.seeded?s.watermark:'-'),'<span class="warn">'+esc(s.last_error)+'</span>'])}).join('')}).catch(()=>{});
  get('/api/alerts?limit=50').then(as=>{document.getElementById('alerts').innerHTML=(as||[]).map(a=>row(['<span class="dim">'+esc(new Date(a.delivered_at).toLocaleString())+'</span>',esc(short(a.pair_key)),esc(a.tier),'$'+esc(Number(a.usd_value).toFixed(2)),esc(short(a.tx_hash))])).join('')}).catch(()=>{});
}
load();setInterval(load,8000);
</script>
</body></html>`
