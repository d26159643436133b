// Package i18n localizes the fixed responses the pipeline emits without
// consulting the model: scope refusals, empty-knowledge answers and the
// language instruction injected into the system prompt.
//
// Lookups are pure functions keyed by an ISO 639-1 code; unknown codes fall
// back to English. The organization name is substituted at call time so the
// catalogs stay deployment-independent.
package i18n

import (
	"fmt"
	"strings"
)

// rtlLanguages render right to left; the API surfaces this so clients can
// set text direction.
var rtlLanguages = map[string]bool{
	"ar": true,
	"he": true,
	"fa": true,
	"ur": true,
}

// IsRTL reports whether lang renders right to left.
func IsRTL(lang string) bool {
	return rtlLanguages[normalize(lang)]
}

func normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	// zh-TW, pt-BR and similar collapse to the base code.
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func lookup(catalog map[string]string, lang string) string {
	if msg, ok := catalog[normalize(lang)]; ok {
		return msg
	}
	return catalog["en"]
}

// Refusal returns the off-topic refusal for lang, naming the organization.
func Refusal(lang, org string) string {
	return fmt.Sprintf(lookup(refusals, lang), org, org)
}

// NoInformation returns the empty-retrieval answer for lang.
func NoInformation(lang, org string) string {
	return fmt.Sprintf(lookup(noInformation, lang), org)
}

// CollisionRefusal explains that the assistant covers the organization, not
// the unrelated entity the question appears to target.
func CollisionRefusal(lang, org, entity string) string {
	return fmt.Sprintf(lookup(collisionRefusals, lang), org, entity)
}

// Greeting answers bare salutations without a model round trip.
func Greeting(lang, org string) string {
	return fmt.Sprintf(lookup(greetings, lang), org)
}

// HedgePrefix prepends uncertainty framing to an answer generated from an
// ambiguous classification.
func HedgePrefix(lang string) string {
	return lookup(hedgePrefixes, lang)
}

// Instruction returns the system prompt line that pins the response
// language. Unknown codes get a generic English-phrased instruction, which
// models follow reliably.
func Instruction(lang string) string {
	if msg, ok := instructions[normalize(lang)]; ok {
		return msg
	}
	return fmt.Sprintf("You must respond in the language with code %q.", normalize(lang))
}

var refusals = map[string]string{
	"en": "Sorry, I'm a specialized assistant for %s only. I cannot answer questions outside %s's scope.",
	"ar": "عذراً، أنا مساعد مخصص لـ %s فقط. لا يمكنني الإجابة على أسئلة خارج نطاق %s.",
	"fr": "Désolé, je suis un assistant spécialisé uniquement pour %s. Je ne peux pas répondre aux questions hors du cadre de %s.",
	"de": "Entschuldigung, ich bin ein spezialisierter Assistent nur für %s. Ich kann Fragen außerhalb des Bereichs von %s nicht beantworten.",
	"es": "Lo siento, soy un asistente especializado solo para %s. No puedo responder preguntas fuera del alcance de %s.",
	"it": "Mi dispiace, sono un assistente specializzato solo per %s. Non posso rispondere a domande al di fuori dell'ambito di %s.",
	"pt": "Desculpe, sou um assistente especializado apenas para %s. Não posso responder a perguntas fora do escopo de %s.",
	"ru": "Извините, я специализированный помощник только по %s. Я не могу отвечать на вопросы вне области %s.",
	"zh": "抱歉，我是 %s 的专属助手。我无法回答 %s 范围之外的问题。",
	"ja": "申し訳ございません、私は %s 専用のアシスタントです。%s の範囲外の質問にはお答えできません。",
	"ko": "죄송합니다. 저는 %s 전용 어시스턴트입니다. %s 범위 밖의 질문에는 답변할 수 없습니다.",
	"hi": "क्षमा करें, मैं केवल %s के लिए एक विशेष सहायक हूं। मैं %s के दायरे से बाहर के प्रश्नों का उत्तर नहीं दे सकता।",
	"tr": "Üzgünüm, yalnızca %s için özel bir asistanım. %s kapsamı dışındaki sorulara cevap veremem.",
	"nl": "Sorry, ik ben een gespecialiseerde assistent alleen voor %s. Ik kan geen vragen beantwoorden buiten het bereik van %s.",
	"pl": "Przepraszam, jestem specjalistycznym asystentem tylko dla %s. Nie mogę odpowiadać na pytania poza zakresem %s.",
}

var noInformation = map[string]string{
	"en": "I couldn't find anything about that in %s's documentation. Could you rephrase the question, or ask about something else related to %[1]s?",
	"ar": "لم أجد أي معلومات حول ذلك في وثائق %s. هل يمكنك إعادة صياغة السؤال؟",
	"fr": "Je n'ai rien trouvé à ce sujet dans la documentation de %s. Pouvez-vous reformuler la question ?",
	"de": "Dazu habe ich in der Dokumentation von %s nichts gefunden. Können Sie die Frage umformulieren?",
	"es": "No encontré nada al respecto en la documentación de %s. ¿Puede reformular la pregunta?",
	"pt": "Não encontrei nada sobre isso na documentação de %s. Pode reformular a pergunta?",
	"ru": "Я не нашёл информации об этом в документации %s. Не могли бы вы переформулировать вопрос?",
	"zh": "我在 %s 的文档中没有找到相关信息。您能换个说法再问一次吗？",
	"ja": "%s のドキュメントには該当する情報が見つかりませんでした。別の言い方で質問していただけますか。",
	"ko": "%s 문서에서 관련 정보를 찾지 못했습니다. 질문을 다시 표현해 주시겠어요?",
}

var collisionRefusals = map[string]string{
	"en": "I cover %s, not %s. Those are unrelated organizations that happen to share a similar name. If your question is about %[1]s, I'm happy to help.",
	"ar": "أنا أغطي %s وليس %s، وهما جهتان غير مرتبطتين تتشابهان في الاسم فقط.",
	"fr": "Je couvre %s, pas %s. Ce sont des organisations sans lien qui partagent un nom similaire.",
	"de": "Ich decke %s ab, nicht %s. Das sind nicht verwandte Organisationen mit ähnlichem Namen.",
	"es": "Cubro %s, no %s. Son organizaciones sin relación que comparten un nombre similar.",
	"zh": "我负责的是 %s，而不是 %s。它们是名称相似但互不相关的组织。",
	"ja": "私が対応するのは %s であり、%s ではありません。名前が似ているだけの無関係な組織です。",
}

var greetings = map[string]string{
	"en": "Hello! I'm the %s assistant. Ask me anything about %[1]s.",
	"ar": "مرحباً! أنا مساعد %s. اسألني أي شيء عن %[1]s.",
	"fr": "Bonjour ! Je suis l'assistant de %s. Posez-moi vos questions sur %[1]s.",
	"de": "Hallo! Ich bin der Assistent von %s. Fragen Sie mich alles über %[1]s.",
	"es": "¡Hola! Soy el asistente de %s. Pregúnteme lo que quiera sobre %[1]s.",
	"zh": "您好！我是 %s 的助手，欢迎咨询任何关于 %[1]s 的问题。",
	"ja": "こんにちは！%s のアシスタントです。%[1]s について何でもお尋ねください。",
	"ko": "안녕하세요! 저는 %s 어시스턴트입니다. %[1]s에 대해 무엇이든 물어보세요.",
	"ru": "Здравствуйте! Я ассистент %s. Спрашивайте меня о %[1]s.",
}

var hedgePrefixes = map[string]string{
	"en": "I'm not fully sure this is what you're asking, but here is what I found: ",
	"fr": "Je ne suis pas certain que ce soit votre question, mais voici ce que j'ai trouvé : ",
	"de": "Ich bin nicht sicher, ob das Ihre Frage trifft, aber hier ist, was ich gefunden habe: ",
	"es": "No estoy seguro de que esto sea lo que pregunta, pero esto es lo que encontré: ",
	"zh": "我不完全确定这是否是您想问的，但以下是我找到的信息：",
	"ja": "ご質問の意図と合っているか分かりませんが、見つかった情報は次のとおりです。",
}

var instructions = map[string]string{
	"ar": "يجب أن ترد باللغة العربية.",
	"en": "You must respond in English.",
	"fr": "Vous devez répondre en français.",
	"de": "Sie müssen auf Deutsch antworten.",
	"es": "Debes responder en español.",
	"it": "Devi rispondere in italiano.",
	"pt": "Você deve responder em português.",
	"ru": "Вы должны отвечать на русском языке.",
	"zh": "您必须用中文回答。",
	"ja": "日本語で返答してください。",
	"ko": "한국어로 응답해야 합니다.",
	"hi": "आपको हिंदी में उत्तर देना होगा।",
	"tr": "Türkçe cevap vermelisiniz.",
	"nl": "Je moet in het Nederlands antwoorden.",
	"pl": "Musisz odpowiedzieć po polsku.",
}
