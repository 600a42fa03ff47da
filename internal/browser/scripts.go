package browser

import (
	"encoding/json"
	"fmt"
	"time"
)

// bindingName is the function the probe calls to report events to Go
const bindingName = "__pkEmit"

// Event payloads sent through the binding.
const (
	eventChange   = "change"
	eventActivate = "activate"
)

// probeScript is installed in every document of a tab. It remembers the
// last element the user pointed at or right-clicked and the pointer
// position. DOM mutations are reported through the binding at most once per
// coalescing window; Alt+Shift+S reports an activation.
const probeScript = `((windowMs) => {
  if (window.__pk) return true;
  const pk = window.__pk = {pointer: null, target: null, targetAt: 0, pending: false};
  const emit = (kind) => { if (typeof window.__pkEmit === 'function') window.__pkEmit(kind); };
  const mark = (e) => { pk.target = e.target; pk.targetAt = Date.now(); };
  document.addEventListener('contextmenu', mark, true);
  document.addEventListener('pointerdown', mark, true);
  document.addEventListener('mousemove', (e) => { pk.pointer = [e.pageX, e.pageY]; }, {capture: true, passive: true});
  document.addEventListener('keydown', (e) => {
    if (e.altKey && e.shiftKey && e.code === 'KeyS') emit('activate');
  }, true);
  new MutationObserver(() => {
    if (pk.pending) return;
    pk.pending = true;
    setTimeout(() => { pk.pending = false; emit('change'); }, windowMs);
  }).observe(document, {childList: true, subtree: true});
  emit('change');
  return true;
})(%d)`

// stampScript writes layout facts into the markup before it is serialized.
const stampScript = `(() => {
  const pk = window.__pk || {};
  const sx = window.scrollX, sy = window.scrollY;
  const root = document.documentElement;
  root.setAttribute('data-pk-viewport', [sx, sy, window.innerWidth, window.innerHeight].join(','));
  if (pk.pointer) root.setAttribute('data-pk-pointer', pk.pointer.join(','));
  else root.removeAttribute('data-pk-pointer');

  document.querySelectorAll('[data-pk-target]').forEach((el) => el.removeAttribute('data-pk-target'));
  if (pk.target && pk.target.isConnected && pk.target.setAttribute) {
    pk.target.setAttribute('data-pk-target', String(pk.targetAt));
  }

  document.querySelectorAll('div, article, section, li, img, video').forEach((el) => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 && r.height === 0) { el.removeAttribute('data-pk-rect'); return; }
    el.setAttribute('data-pk-rect', [Math.round(r.left + sx), Math.round(r.top + sy), Math.round(r.width), Math.round(r.height)].join(','));
    if (el.tagName === 'IMG' && el.naturalWidth) {
      el.setAttribute('data-pk-natural', el.naturalWidth + ',' + el.naturalHeight);
    }
  });
  return true;
})()`

// fetchScript downloads an image with the page's cache and no cookies
const fetchScript = `(async (u) => {
  const res = await fetch(u, {cache: 'force-cache', credentials: 'omit'});
  if (!res.ok) throw new Error('status ' + res.status);
  const blob = await res.blob();
  return await new Promise((resolve, reject) => {
    const r = new FileReader();
    r.onload = () => resolve(r.result);
    r.onerror = () => reject(r.error);
    r.readAsDataURL(blob);
  });
})(%s)`

// toastScript shows a short-lived banner marked as injected so extraction
// never reads it.
const toastScript = `((msg, ok) => {
  const el = document.createElement('div');
  el.setAttribute('data-pk-injected', '1');
  el.textContent = msg;
  el.style.cssText = 'position:fixed;top:16px;right:16px;z-index:2147483647;padding:10px 14px;' +
    'border-radius:8px;font:14px sans-serif;color:#fff;box-shadow:0 4px 12px rgba(0,0,0,.2);' +
    'background:' + (ok ? '#0a66c2' : '#cc1016');
  document.body.appendChild(el);
  setTimeout(() => el.remove(), 3000);
  return true;
})(%s, %t)`

// jsString quotes s as a JavaScript string literal
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func probeExpr(coalesce time.Duration) string {
	return fmt.Sprintf(probeScript, coalesce.Milliseconds())
}

func fetchExpr(url string) string {
	return fmt.Sprintf(fetchScript, jsString(url))
}

func toastExpr(msg string, ok bool) string {
	return fmt.Sprintf(toastScript, jsString(msg), ok)
}
